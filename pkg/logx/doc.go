// Package logx is the zerolog wrapper every relaygram component logs through.
//
// A Service fans lines out to the console, an append-only JSON file and,
// optionally, the Telegram log group. Apply swaps sinks and levels while the
// daemon runs; loggers derived with With keep working across the swap.
//
// The Telegram sink forwards only lines at or above its minimum level, is
// rate limited, and drops rather than blocks when the chat falls behind.
package logx
