// Package descriptor defines the work descriptor data model for the
// task lifecycle.
//
// A Descriptor represents one unit of work as it moves through named
// lifecycle stages (Intake, Claimed, PendingApproval, Approved,
// Rejected, Done, Escalated, Quarantined). It carries a small
// structured metadata header (type, stage, priority, ownership, retry
// state, approval decision, append-only history) plus a free-form body.
//
// Persisted descriptors serialize as a YAML frontmatter header between
// `---` fences followed by the body. Lifecycle mutations rewrite only
// the header; the body is carried through byte-for-byte. See
// EncodeFrontMatter and DecodeFrontMatter.
//
// The history is append-only and records (stage, actor, timestamp) for
// every transition, allowing exact reconstruction of the path a
// descriptor took.
package descriptor
