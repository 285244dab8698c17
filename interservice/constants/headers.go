package constant

const (
	// HeaderCorrelationID carries the correlation id threaded through a chain
	// of service calls.
	HeaderCorrelationID = "X-Correlation-Id"
	// HeaderRequestID carries the per-hop request identifier.
	HeaderRequestID = "X-Request-Id"
	// HeaderResponseTime carries the server-side processing time in milliseconds.
	HeaderResponseTime = "X-Response-Time"
	// HeaderServiceName identifies the calling service on outbound requests.
	HeaderServiceName = "X-Service-Name"
	// HeaderServiceToken carries the short-lived signed service identity token.
	HeaderServiceToken = "X-Service-Token"
	// HeaderTimestamp carries the request emission time (RFC 3339).
	HeaderTimestamp = "X-Timestamp"
	// HeaderUserID is the forwarded end-user identifier.
	HeaderUserID = "X-User-Id"
	// HeaderUserRoles is the forwarded end-user role list.
	HeaderUserRoles = "X-User-Roles"
	// HeaderSessionID is the forwarded end-user session identifier.
	HeaderSessionID = "X-Session-Id"
	// HeaderContentType is the HTTP Content-Type header key.
	HeaderContentType = "Content-Type"
	// HeaderAccept is the HTTP Accept header key.
	HeaderAccept = "Accept"
	// HeaderUserAgent is the HTTP User-Agent header key.
	HeaderUserAgent = "User-Agent"

	// ContentTypeJSON is the JSON media type used on every inter-service call.
	ContentTypeJSON = "application/json"
)
