// Package responses renders API envelopes and RFC 7807 problem documents.
package responses
