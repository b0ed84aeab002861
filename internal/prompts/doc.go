// Package prompts contains every prompt template sent to a completion
// provider.
//
// Prompt text is Go code rather than config files because it is program
// logic: templates use fmt.Sprintf interpolation and are checked by tests.
//
// Convention: each prompt category gets its own file (generation.go,
// validation.go, improve.go, explain.go) with an exported function that
// accepts the dynamic parts and returns the interpolated prompt string.
package prompts
