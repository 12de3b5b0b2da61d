// Package memory implements the conversation memory policy.
//
// Each session holds an ordered, append-only sequence of user and
// assistant turns. After every recorded exchange the session is trimmed
// oldest-first until the retained turns fit the token budget; the most
// recent question/answer pair always survives truncation.
package memory
