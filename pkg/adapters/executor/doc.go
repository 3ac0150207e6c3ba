// Package executor provides job executor implementations and a factory.
//
// Implementations:
//   - docker: runs the payload's command in a container
//   - anthropic: sends the payload's prompt to Claude
//   - echo: copies the payload into the result, for local runs
package executor
