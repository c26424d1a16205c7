package stack

// NewServiceLoggerFor exposes the service logger builder with an explicit
// console writer and terminal decision.
var NewServiceLoggerFor = newServiceLogger
