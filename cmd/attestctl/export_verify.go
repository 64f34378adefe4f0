package main

import (
	"encoding/json"
	"fmt"
	"os"

	"attestd/internal/usecase"
)

// runExportVerify checks an exported audit chain segment offline: report
// hash, per-event hashes, and the prev-hash linkage.
func runExportVerify(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "export verify requires <audit_export.json>")
		return 1
	}

	payload, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "read export: %v\n", err)
		return 1
	}

	var export usecase.AuditExport
	if err := json.Unmarshal(payload, &export); err != nil {
		fmt.Fprintf(os.Stderr, "decode export: %v\n", err)
		return 1
	}

	report, err := usecase.VerifyExport(export)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify export: %v\n", err)
		return 1
	}

	status := "pass"
	if !report.IsValid {
		status = "fail"
	}
	fmt.Printf("status=%s chain_id=%s verified_events=%d\n", status, report.ChainID, report.VerifiedEvents)
	if report.FirstBreak != nil {
		fmt.Printf("break.event_id=%s break.seq=%d break.reason=%s\n",
			report.FirstBreak.EventID, report.FirstBreak.Seq, report.FirstBreak.Reason)
	}
	if report.IsValid {
		return 0
	}
	return 1
}
