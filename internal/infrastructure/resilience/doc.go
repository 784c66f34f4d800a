// Package resilience provides bounded retry with exponential backoff for
// calls against external infrastructure.
//
// Retries are always bounded: exhausting the attempt budget surfaces the
// last error to the caller instead of retrying indefinitely. Callers decide
// which errors are worth retrying via the Retryable predicate.
package resilience
