// Package core runs batches of surveys through the whole pipeline.
//
// A batch is a list of [Job] values, one per survey dictionary and its data
// files. [Service.Run] parses every dictionary, merges the schemas by table
// name, then splits and loads the data files one at a time:
//
//	svc := core.NewService(coord, db, core.Options{Workers: 4})
//	report, err := svc.Run(ctx, jobs)
//	if err != nil {
//	    // cancelled or timed out; report holds what finished
//	}
//	for _, f := range report.Failures() {
//	    fmt.Println(f.Table, f.User.Code, f.Err)
//	}
//
// # Failure Scope
//
// A bad dictionary stops its own survey. A file that cannot be read stops
// that file. A failed schema change stops that table for the rest of the
// run. Everything else is reported per table and the run goes on. Line
// issues in data files are counted and never fail anything.
//
// Each failure maps to a user-facing code through [MapError].
package core
