// Package lua runs EVAL and EVALSHA scripts with gopher-lua.
//
// Each script gets a fresh Lua state with KEYS, ARGV and a redis table
// offering call, pcall, status_reply and error_reply. Commands issued by
// a script are handed to a Caller, so they go through the same command
// table, type checks and replication as client commands.
//
// Replies are converted both ways with the usual Redis rules: bulk
// strings become Lua strings, integers become numbers, a null reply
// becomes false, status and error replies become {ok=...} and {err=...}
// tables. The io and os libraries are not available to scripts.
package lua
