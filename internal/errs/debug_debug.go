//go:build debug

package errs

// IncludeDeveloperNotes reports whether DeveloperNotes should be
// serialized onto the wire. Debug builds (`-tags debug`) include it;
// release builds omit it, per spec §7.
const IncludeDeveloperNotes = true
