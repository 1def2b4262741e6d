// Package retry provides the bounded retry policy wrapped around every
// external adapter call. Adapters perform one attempt and classify failures;
// the policy decides whether and when to try again.
package retry
