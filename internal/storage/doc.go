// Package storage is the persistent group registry: destination chats,
// per-chat translation flags, authorized actors, and the audit trails for
// translations and broadcasts.
package storage
