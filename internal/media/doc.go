// Package media stages user-supplied images on local disk until a post that
// uses them is published or abandoned.
//
// Images are validated by sniffing their content (JPEG, PNG and GIF are
// accepted), never by file name. Each user has at most one staged file: a new
// Stage call for the same user removes the previous file first. Release is
// idempotent, so every terminal path of a conversation may call it without
// coordinating with the others.
package media
