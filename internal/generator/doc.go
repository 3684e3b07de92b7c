// Package generator drafts post text from a topic.
//
// Generator is the single-shot contract used by the conversation engine: one
// call, one draft or one error. Gemini implements it on top of the Google
// Gen AI SDK; Static returns canned text for dry runs.
//
// Every upstream failure (transport, quota, timeout, blocked or empty
// response) surfaces as ErrGenerationFailed. The generator never retries; the
// user decides whether to regenerate.
//
// # Output policy
//
// Models like to answer in Markdown while chat clients and the target
// network render plain text. Sanitize applies an explicit policy per
// OutputFormat: FormatPlain parses the draft with goldmark and re-emits only
// the readable text, FormatMarkdown only trims it.
package generator
