// Package compiler turns CUE configuration into mapping tables and writer
// definitions.
//
// A configuration document has three top-level sections, each keyed by name:
//
//	status: withdrawal_status: {
//		processing_manual_review: "APPROVED_PENDING"
//		completed:                "COMPLETED"
//	}
//
//	enum: platform: {
//		values: ["ANDROID", "IOS", "WEB"]
//		aliases: {iPhone: "IOS"}
//	}
//
//	writer: withdrawal_request: {
//		request_type: "WITHDRAWAL"
//		table:        "withdrawals"
//		status: {column: "status", map: "withdrawal_status"}
//		enums: [{column: "platform", domain: "platform"}]
//		payload:     "data"
//		passthrough: ["currency"]
//	}
//
// Compile unifies the document with the embedded schema, compiles every
// section and collects all errors. Validate then checks the references
// between sections; Bind resolves a validated Config into ledger definitions.
package compiler
