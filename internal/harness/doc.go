// Package harness runs end-to-end ledger scenarios against an in-memory
// SQLite store with real writers attached.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	config:
//	  - ../config/withdrawal.cue
//	schema:
//	  - CREATE TABLE withdrawals (id TEXT PRIMARY KEY, status TEXT)
//	steps:
//	  - name: request
//	    actor: u-7
//	    ops:
//	      - op: insert
//	        table: withdrawals
//	        rows:
//	          - {id: w-1, status: processing_manual_review}
//	    expect:
//	      affected: 1
//	  - ops:
//	      - op: update
//	        table: withdrawals
//	        set: {status: unknown_xyz}
//	        where: {id: w-1}
//	    expect:
//	      error: UNMAPPED_STATUS
//	assertions:
//	  - type: ledger_count
//	    count: 1
//	  - type: ledger_contains
//	    expect: {key: w-1, status: APPROVED_PENDING}
//	  - type: final_state
//	    table: withdrawals
//	    where: {id: w-1}
//	    expect: {status: processing_manual_review}
//
// inline_config may replace config with CUE source embedded in the scenario.
//
// # Assertion Types
//
//   - ledger_count: number of committed derived records matching where
//   - ledger_contains: some derived record matches expect (subset match)
//   - final_state: exactly one source row matches where and carries expect
//   - row_count: number of source rows matching where
//
// # Deterministic Testing
//
// Every step runs in its own transaction with a deterministic clock
// (testutil.Epoch plus one second per step) and sequential transaction ids,
// so ledgers are identical across runs and can be compared against golden
// snapshots with RunWithGolden.
package harness
