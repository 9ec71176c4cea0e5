package keepui

// Logging convention in the `keepui` package:
// Info:
//     essential events for abnormal behavior. This level should be silent on normal operation,
//     with the exception of one time (infrequent) initialization data that is useful for monitoring
//     this includes:
//     - fetch and socket failures
//     - dropped live-update frames
// Error:
//     unrecoverable crash details
// V(2):
//     key events for trace debugging
//     this includes:
//     - per-page merges, per-frame live updates, per-claim uploads,
//       tagged so a single session or edit can be filtered
//
// Tags used: [ss]=search session, [ws]=live channel, [api]=server connection,
// [mr]=message router, [nav]=navigator, [ed]=attribute editor
