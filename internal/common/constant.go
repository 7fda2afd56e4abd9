package common

const (
	// AccessTokenHeaderName carries the bearer access token.
	AccessTokenHeaderName = "Authorization"

	// EvidenceKeyHeaderName carries the one-time evidence key on stream requests,
	// keeping it out of URLs and access logs.
	EvidenceKeyHeaderName = "X-Evidence-Key"
)
