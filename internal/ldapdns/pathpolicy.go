/*
 * Copyright (c) 2024 Tomas Krizek
 */
package ldapdns

import "path/filepath"

// PathPolicy names the on-disk layout for a zone's working files,
// matching spec §6's "<directory>/master/<escaped-zone>/{raw,signed,
// keys/}" convention. The host server decides the exact journal/zone
// file basenames; this engine only needs the containing directory.
type PathPolicy interface {
	ZoneDir(name string) string
	RawFile(name string) string
	SignedFile(name string) string
	KeysDir(name string) string
}

// defaultPathPolicy implements PathPolicy by escaping the zone name
// with NameToFilenameText and nesting it under a configured root
// directory, mirroring the engine's own master/ layout convention.
type defaultPathPolicy struct {
	root string
}

func NewDefaultPathPolicy(root string) PathPolicy {
	return &defaultPathPolicy{root: root}
}

func (p *defaultPathPolicy) ZoneDir(name string) string {
	return filepath.Join(p.root, "master", NameToFilenameText(name))
}

func (p *defaultPathPolicy) RawFile(name string) string {
	return filepath.Join(p.ZoneDir(name), "raw")
}

func (p *defaultPathPolicy) SignedFile(name string) string {
	return filepath.Join(p.ZoneDir(name), "signed")
}

func (p *defaultPathPolicy) KeysDir(name string) string {
	return filepath.Join(p.ZoneDir(name), "keys")
}
