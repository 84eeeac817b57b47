// Package store provides durable descriptor storage organized by
// lifecycle stage, with an atomic stage-transition primitive.
//
// The transition primitive is the only concurrency control in the
// system: a claim is an atomic move of a descriptor from the Intake
// partition to the Claimed partition, and exactly one of any number of
// concurrent movers can win. There is no lock manager; correctness
// rests on the destination of a transition being unambiguous and
// collision-detecting.
//
// Two backends are provided:
//
//   - MemoryStore: in-process, for tests and single-process runs
//   - DirStore: a filesystem vault with one directory per stage and one
//     frontmatter file per descriptor, using rename(2) as the atomic
//     create-or-fail move so independent worker processes can share it
//
// All invariants are enforced at this layer: a descriptor occupies
// exactly one stage at any instant, claims are exclusive, a descriptor
// flagged requires_approval never reaches Done without a recorded
// approval, retry counts never decrease, and history is append-only.
package store
