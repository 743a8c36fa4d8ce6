// Package notify keeps the push-token registry and hands notifications to
// the push gateway.
//
// Delivery to devices (FCM, APNs, Web Push) is the gateway's job. This
// service publishes one JSON message per registered token on a Redis
// pub/sub channel; when Redis is disabled a LogSink records what would
// have been sent.
package notify
