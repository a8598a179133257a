// Package dedupe tracks recently seen event ids so redelivered platform
// updates are processed once. The window is bounded both by age and by
// count; when full, the oldest id is evicted first.
package dedupe
