// Package parser reads mailing-list archive exports into messages.
//
// Two formats are supported:
//
//   - JSONL records written by the archive crawler (.jsonl, .ndjson)
//   - Standard mbox files (.mbox), one per month, named like 2024-03.mbox
//
// # Basic Usage
//
//	p := parser.New()
//	result, err := p.ParsePath("/data/archive")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, perr := range result.Errors {
//	    log.Printf("skipped %s", perr.Error())
//	}
//
// ParsePath also assigns thread roots and depths with ReconstructThreads.
//
// # Body Cleaning
//
// Each message keeps two views of its body. BodyClean drops quoted
// lines; BodyNewContent additionally drops "On ... wrote:" attributions and
// collapses blank runs, leaving only what the author wrote.
//
// # Error Handling
//
// A record that cannot be read (bad JSON, missing ID, unparseable date) is
// skipped and reported in ParseResult.Errors. Only I/O failures abort parsing.
package parser
