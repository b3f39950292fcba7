package edimig

import (
	"strconv"
	"strings"
)

// PathResolver answers where a BO4E field came from: it maps a dotted
// BO4E path like `Marktlokation.marktlokationsId` to the MIG path of
// its source element, ex: `SG4/SG5/LOC/C517/3225`. Useful for error
// reporting against the schema documents.
type PathResolver struct {
	// exact maps `Entity.target` to the full MIG element path
	exact map[string]string
	// entities maps an entity name to its source group path
	entities map[string]string
}

// BuildResolver derives the resolver from the engine's definitions.
// When the MIG is nil, element IDs degrade to numeric positions.
func (e *MappingEngine) BuildResolver(mig *Mig) *PathResolver {
	r := &PathResolver{
		exact:    make(map[string]string),
		entities: make(map[string]string),
	}
	for _, def := range e.defs {
		groupPath, _, _ := parseSourceGroup(def.Meta.SourceGroup)
		r.entities[def.Meta.Entity] = strings.Join(groupPath, pathSeparator)
		for _, section := range []map[string]MappingField{def.Fields, def.CompanionFields} {
			for path, field := range section {
				fp, err := parseFieldPath(path)
				if err != nil {
					continue
				}
				r.exact[def.Meta.Entity+"."+field.Target] = migElementPath(mig, groupPath, fp)
			}
		}
	}
	return r
}

// migElementPath renders the MIG path for one addressed slot, using
// the MIG element IDs when the position is known to the schema.
func migElementPath(mig *Mig, groupPath []string, fp fieldPath) string {
	parts := append(append([]string{}, groupPath...), fp.tag)
	var spec *MigSegment
	if mig != nil {
		spec = mig.SegmentAt(groupPath, fp.tag)
	}
	if spec != nil {
		if field := spec.FieldAt(fp.elem); field != nil {
			if field.IsComposite() {
				parts = append(parts, field.ID)
				sub := fp.sub
				if sub < 0 {
					sub = 0
				}
				for _, comp := range field.Components {
					if comp.Position == sub {
						parts = append(parts, comp.ID)
						break
					}
				}
			} else {
				parts = append(parts, field.ID)
			}
			return strings.Join(parts, pathSeparator)
		}
	}
	parts = append(parts, strconv.Itoa(fp.elem))
	if fp.sub >= 0 {
		parts = append(parts, strconv.Itoa(fp.sub))
	}
	return strings.Join(parts, pathSeparator)
}

// Resolve maps a BO4E path to its MIG source path. Leading
// `stammdaten.` or `transaktionen.` envelope prefixes and numeric list
// indexes are ignored, so `nachrichten.0.stammdaten.Marktlokation.
// marktlokationsId` resolves the same as `Marktlokation.
// marktlokationsId`.
func (r *PathResolver) Resolve(bo4ePath string) (string, bool) {
	parts := make([]string, 0, 4)
	for _, part := range strings.Split(bo4ePath, ".") {
		switch part {
		case "", "nachrichten", "stammdaten", "transaktionen", "companion":
			continue
		}
		if _, err := strconv.Atoi(part); err == nil {
			continue
		}
		parts = append(parts, part)
	}
	if len(parts) >= 2 {
		key := parts[len(parts)-2] + "." + parts[len(parts)-1]
		if migPath, ok := r.exact[key]; ok {
			return migPath, true
		}
	}
	if len(parts) >= 1 {
		if groupPath, ok := r.entities[parts[len(parts)-1]]; ok {
			return groupPath, true
		}
	}
	return "", false
}
