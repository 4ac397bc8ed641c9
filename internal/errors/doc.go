// Package errors provides structured, actionable error messages for the
// socksync command.
//
// Each error has a code (e.g., "S101") mapped to a short message, a longer
// explanation and a category. Configuration errors can point at the exact
// line of the TOML file that caused them:
//
//	err := errors.New("S101").
//	    WithLocation("socksync.toml", 12, 9).
//	    WithSuggestion("Durations are strings, e.g. interval = \"30s\"")
//
//	fmt.Println(err.Format())
//	// Output:
//	// ERROR S101: Config parse error
//	//
//	//   socksync.toml:12:9
//	//
//	//     10 │ [snapshot]
//	//     11 │ backend = "s3"
//	//   → 12 │ interval = 30
//	//        │         ^
//	//
//	//   Hint: Durations are strings, e.g. interval = "30s"
//
// Errors wrap their cause, so errors.Is and errors.As from the standard
// library see through them.
package errors
