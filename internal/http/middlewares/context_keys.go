package middlewares

// CtxRequestID is the gin context key for the request id. The caller's
// identity travels on the request context via actorctx instead.
const CtxRequestID = "request_id"

// SessionCookieName is the cookie that carries the signed session token.
const SessionCookieName = "jwtToken"
