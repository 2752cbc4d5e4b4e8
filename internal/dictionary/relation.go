package dictionary

// relationBuilder reads the ordered rows of one [Relation] block. A block
// names one primary table followed by any number of join groups, each made
// of an optional PrimaryLink, one Secondary and an optional SecondaryLink.
// A join is complete once the next group starts, so add may return the
// previous join and flush returns the last one.
type relationBuilder struct {
	name          string
	primary       string
	primaryLink   string
	secondary     string
	secondaryLink string
}

func (b *relationBuilder) current() (Relation, bool) {
	if b.name == "" || b.primary == "" || b.secondary == "" {
		return Relation{}, false
	}
	rel := Relation{
		Name:           b.name,
		PrimaryTable:   b.primary,
		PrimaryLink:    b.primaryLink,
		SecondaryTable: b.secondary,
		SecondaryLink:  b.secondaryLink,
	}
	if rel.PrimaryLink == "" {
		rel.PrimaryLink = RowIDLink
	}
	if rel.SecondaryLink == "" {
		rel.SecondaryLink = RowIDLink
	}
	return rel, true
}

func (b *relationBuilder) add(key, value string) (Relation, bool) {
	switch key {
	case "Name":
		b.name = value
	case "Primary":
		b.primary = value
	case "PrimaryLink":
		rel, ok := b.current()
		b.primaryLink = value
		b.secondary = ""
		b.secondaryLink = ""
		return rel, ok
	case "Secondary":
		rel, ok := b.current()
		if b.secondary != "" {
			// A second Secondary without a new PrimaryLink joins on occurrence.
			b.primaryLink = ""
		}
		b.secondary = value
		b.secondaryLink = ""
		return rel, ok
	case "SecondaryLink":
		b.secondaryLink = value
	}
	return Relation{}, false
}

func (b *relationBuilder) flush() (Relation, bool) {
	rel, ok := b.current()
	*b = relationBuilder{}
	return rel, ok
}
