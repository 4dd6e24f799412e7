// Package identity derives the stable, content-addressed identifiers used
// throughout the index: symbol ids, edge ids, and content hashes.
//
// Symbol identity is built from the symbol's logical coordinates
// (qualified name, signature, language) rather than its file location, so
// moving or renaming a file does not change the id of the symbols it
// contains as long as their qualified name is unchanged.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// IDLength is the number of hex characters kept from a symbol or edge hash.
const IDLength = 16

// SymbolID derives the canonical identifier for a symbol from its
// qualified name, signature, and language.
//
//	id = sha256(qualifiedName + "::" + signature + "::" + language)[:16]
func SymbolID(qualifiedName, signature, language string) string {
	sum := sha256.Sum256([]byte(qualifiedName + "::" + signature + "::" + language))
	return hex.EncodeToString(sum[:])[:IDLength]
}

// EdgeID derives the canonical identifier for an edge from its endpoints
// and type.
//
//	id = sha256(sourceID + "::" + targetID + "::" + edgeType)[:16]
func EdgeID(sourceID, targetID, edgeType string) string {
	sum := sha256.Sum256([]byte(sourceID + "::" + targetID + "::" + edgeType))
	return hex.EncodeToString(sum[:])[:IDLength]
}

// ContentHash returns the full-length hex SHA-256 of content. Used for
// file_hash, chunk content_hash, and the dedup key in context assembly.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// ContentHashString is a convenience wrapper over ContentHash for string
// content.
func ContentHashString(content string) string {
	return ContentHash([]byte(content))
}

// ChunkID derives a chunk identifier from its location and content, so
// that re-chunking an unchanged region of a file reuses the same id.
func ChunkID(filePath string, startLine, endLine int, contentHash string) string {
	sum := sha256.Sum256([]byte(filePath + "::" + itoa(startLine) + "::" + itoa(endLine) + "::" + contentHash))
	return hex.EncodeToString(sum[:])[:IDLength]
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// NormalizePath strips the file extension and unifies path separators so
// that qualified names are stable across platforms.
//
//	src/utils/tax.ts -> src/utils/tax
func NormalizePath(path string) string {
	clean := filepath.ToSlash(path)
	ext := filepath.Ext(clean)
	if ext != "" {
		clean = strings.TrimSuffix(clean, ext)
	}
	return clean
}

// QualifiedName builds a dotted qualified name from a normalized file path,
// an optional parent symbol name (e.g. an enclosing class), and the
// symbol's own name.
//
//	QualifiedName("src/utils/tax.ts", "TaxService", "calculate")
//	  -> "src/utils/tax.TaxService.calculate"
func QualifiedName(filePath string, parent, name string) string {
	base := NormalizePath(filePath)
	parts := []string{base}
	if parent != "" {
		parts = append(parts, parent)
	}
	parts = append(parts, name)
	return strings.Join(parts, ".")
}
