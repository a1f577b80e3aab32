// Package notify delivers workflow updates to the requesting user. The
// Service interface hides the transport; the default implementation talks
// to the Telegram Bot API and a noop fallback keeps delivery optional.
package notify
