// Package nixeval evaluates Nix expressions with nix-instantiate and
// derives option metadata and module contents from the results.
//
// Every evaluation starts one evaluator process; failures without a result
// are retried once with --show-trace so the returned EvaluationError carries
// a stack trace. The option schema and the attributes a module defines are
// memoized through pkg/cache, keyed respectively by the nixpkgs version and
// by the module file's contents.
//
// Evaluation can run locally through ExecRunner or on another machine
// through any Runner, such as the SSH client in pkg/transports/ssh.
package nixeval
