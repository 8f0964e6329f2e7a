package schema

// DeriveThroughEntity builds the implicit through entity for the ManyToMany
// field on owner pointing at target. The result is a plain Entity that the
// registry registers like any declared one.
//
// The entity is named owner followed by the capitalized field name, for
// example "BookGenres", and holds two foreign keys: "from<Owner>Id" to owner
// and "to<Target>Id" to target. A self-referential relation therefore gets
// "fromTagId" and "toTagId".
func DeriveThroughEntity(owner, field, target string) Entity {
	from, to := throughFieldNames(owner, target)
	return Entity{
		Name: owner + capitalize(field),
		Fields: map[string]Field{
			from: FK(owner, ""),
			to:   FK(target, ""),
		},
		IDPolicy: IDAutoIncrement,
	}
}

func throughFieldNames(owner, target string) (from, to string) {
	return "from" + owner + "Id", "to" + target + "Id"
}
