// Package app runs simulated navigations for the API server and the CLI.
//
// A navigation opens a response in a fresh sandbox browser, starts the
// content pipeline on it, lets the document load and settle, and keeps the
// result as a Run. Runs stay addressable until evicted, so privileged-side
// execution can target their tab afterwards.
//
// Key Components:
//   - Manager: installed scripts, hint cache, diagnostics and the run table
//   - Run: the report of one navigation plus its live tab
//   - Report: the serializable view of a Run
//
// Example Usage:
//
//	m := app.NewManager(app.Options{Platform: platform, Diagnostics: diag})
//	run, err := m.Navigate(ctx, app.NavigationRequest{URL: u, HTML: body})
//	if err != nil {
//	    return err
//	}
//	res, err := m.Execute(ctx, run.ID, executor.Request{Code: code, TryUserScripts: true})
package app
