// Package dna implements the engine facade for a post-quantum,
// peer-to-peer, end-to-end encrypted messenger core: the Engine type is
// the single process-wide owner of the identity's background threads,
// network sockets, and open databases, the same role toxcore.go's Tox
// facade plays for the teacher's protocol stack.
package dna
