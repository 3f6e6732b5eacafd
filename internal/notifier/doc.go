// Package notifier formats feed items as chat messages and delivers them.
//
// Delivery goes through a transport.Sender (the Telegram adapter in
// production). Sends are paced by a token bucket so consecutive messages
// are spaced by at least Config.Pacing, and a single retry is made when the
// channel answers with a flood-control hint that fits Config.FloodWaitMax.
//
// Failures are returned as *DeliveryError or *AnnouncementError; the caller
// decides whether they matter. Lifecycle events are published on the event
// bus as "notifier.sent" and "notifier.failed".
package notifier
