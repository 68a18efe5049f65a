package gc

// Locate returns every tracked object holding a reference to target, once
// per referring object, in type registration order. It walks the whole
// heap and is meant for debugging leaks.
func (c *Collector) Locate(target Object) []Object {
	var found []Object
	for _, t := range c.types {
		t.Each(func(obj Object) {
			v := locateVisitor{target: target}
			obj.Trace(&v)
			if v.hit {
				found = append(found, obj)
			}
		})
	}
	return found
}

type locateVisitor struct {
	target Object
	hit    bool
}

func (v *locateVisitor) Visit(o Object) {
	if o == v.target {
		v.hit = true
	}
}
