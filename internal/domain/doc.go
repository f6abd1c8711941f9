// Package domain contains the task entity, its status machine, and the
// canonical question record produced by file conversion. It has no
// dependencies on storage, transport, or the external batch service.
package domain
