// Package tgui builds text for Telegram's HTML parse mode. Plain strings are
// escaped on the way in; values of type H are already safe.
package tgui
