// pkg/core/notice.go
package core

// NoticeKind classifies a non-fatal condition surfaced to the presentation shell.
type NoticeKind string

const (
	NoticeSourceUnavailable  NoticeKind = "source_unavailable"
	NoticeInvalidSourceShape NoticeKind = "invalid_source_shape"
)

// Notice is a non-fatal event. The engine keeps running after emitting one.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
}
