package classfile

import (
	"github.com/wippyai/jclassfile/classfile/internal/binary"
	"github.com/wippyai/jclassfile/errors"
)

// Magic is the class-file signature.
const Magic = 0xCAFEBABE

// parseClass decodes the class skeleton and constant pool. Attribute bodies
// and code are located and bounds-checked but not decoded.
func parseClass(data []byte, opts Options) (*ClassModel, error) {
	r := binary.NewReader(data)
	magic, err := r.ReadU4()
	if err != nil {
		return nil, truncated("header", err)
	}
	if magic != Magic {
		return nil, errors.Malformed(0, "bad magic 0x%08X", magic)
	}
	minor, err := r.ReadU2()
	if err != nil {
		return nil, truncated("header", err)
	}
	major, err := r.ReadU2()
	if err != nil {
		return nil, truncated("header", err)
	}
	if major < MajorJava1 || major > MajorLatest {
		return nil, errors.Malformed(6, "unsupported class file major version %d", major)
	}

	pool, err := readPool(r)
	if err != nil {
		return nil, err
	}
	c := &ClassModel{
		data:    data,
		opts:    opts,
		pool:    pool,
		version: Version{Major: int(major), Minor: int(minor)},
	}

	flags, err := r.ReadU2()
	if err != nil {
		return nil, truncated("header", err)
	}
	c.flags = ClassFlags(int(flags))
	pos := r.Position()
	idx, err := r.ReadU2()
	if err != nil {
		return nil, truncated("header", err)
	}
	if c.thisClass, err = lookup[*ClassEntry](pool, int(idx), pos); err != nil {
		return nil, err
	}
	pos = r.Position()
	if idx, err = r.ReadU2(); err != nil {
		return nil, truncated("header", err)
	}
	if c.superClass, err = lookupOptional[*ClassEntry](pool, int(idx), pos); err != nil {
		return nil, err
	}
	n, err := r.ReadU2()
	if err != nil {
		return nil, truncated("interfaces", err)
	}
	c.interfaces = make([]*ClassEntry, n)
	for i := range c.interfaces {
		pos := r.Position()
		idx, err := r.ReadU2()
		if err != nil {
			return nil, truncated("interfaces", err)
		}
		if c.interfaces[i], err = lookup[*ClassEntry](pool, int(idx), pos); err != nil {
			return nil, err
		}
	}

	if n, err = r.ReadU2(); err != nil {
		return nil, truncated("fields", err)
	}
	c.fields = make([]*FieldModel, n)
	for i := range c.fields {
		f := &FieldModel{pool: pool}
		origin, err := readMember(r, c, func(fl int, name, desc *Utf8Entry, attrs []rawAttribute) {
			f.flags = FieldFlags(fl)
			f.name, f.desc = name, desc
			f.attrs = &attributeSet{pool: pool, raws: attrs}
		}, nil)
		if err != nil {
			return nil, err
		}
		f.origin = origin
		c.fields[i] = f
	}

	if n, err = r.ReadU2(); err != nil {
		return nil, truncated("methods", err)
	}
	c.methods = make([]*MethodModel, n)
	for i := range c.methods {
		m := &MethodModel{pool: pool}
		var codeRaw *rawAttribute
		origin, err := readMember(r, c, func(fl int, name, desc *Utf8Entry, attrs []rawAttribute) {
			m.flags = MethodFlags(fl)
			m.name, m.desc = name, desc
			m.attrs = &attributeSet{pool: pool, raws: attrs}
		}, func(a rawAttribute) (bool, error) {
			if a.name.value != AttrCode {
				return false, nil
			}
			if codeRaw != nil {
				return false, errors.Malformed(a.pos, "duplicate Code attribute")
			}
			codeRaw = &a
			return true, nil
		})
		if err != nil {
			return nil, err
		}
		m.origin = origin
		if codeRaw != nil {
			code, err := readCodeAttribute(*codeRaw, pool, opts)
			if err != nil {
				return nil, errors.In(err, c.thisClass.InternalName(), m.name.value+m.desc.value)
			}
			code.method = m
			m.code = code
		}
		c.methods[i] = m
	}

	var bsm *rawAttribute
	attrs, err := readAttributeHeaders(r, pool, "class attributes", opts.Attributes, func(a rawAttribute) (bool, error) {
		if a.name.value != AttrBootstrapMethods {
			return false, nil
		}
		bsm = &a
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	c.attrs = &attributeSet{pool: pool, raws: attrs}
	if bsm != nil {
		err = pool.readBootstrapMethods(binary.NewReader(data), bsm.pos, len(bsm.data))
	} else {
		err = pool.readBootstrapMethods(nil, 0, 0)
	}
	if err != nil {
		return nil, err
	}
	if r.Remaining() != 0 {
		return nil, errors.Malformed(r.Position(), "%d trailing bytes after class attributes", r.Remaining())
	}
	return c, nil
}

// readMember reads a field_info or method_info. set receives the decoded
// header; take may claim attributes before filtering.
func readMember(r *binary.Reader, c *ClassModel,
	set func(flags int, name, desc *Utf8Entry, attrs []rawAttribute),
	take func(rawAttribute) (bool, error)) (*memberOrigin, error) {
	start := r.Position()
	if !r.InBounds(start, 6) {
		return nil, errors.Malformed(start, "truncated member")
	}
	flags, _ := r.ReadU2()
	name, err := lookup[*Utf8Entry](c.pool, int(r.U2At(start+2)), start+2)
	if err != nil {
		return nil, err
	}
	desc, err := lookup[*Utf8Entry](c.pool, int(r.U2At(start+4)), start+4)
	if err != nil {
		return nil, err
	}
	_ = r.Skip(4)
	total, claimed := 0, 0
	counting := func(a rawAttribute) (bool, error) {
		total++
		if take == nil {
			return false, nil
		}
		ok, err := take(a)
		if ok {
			claimed++
		}
		return ok, err
	}
	attrs, err := readAttributeHeaders(r, c.pool, "member attributes", c.opts.Attributes, counting)
	if err != nil {
		return nil, errors.In(err, c.thisClass.InternalName(), name.value)
	}
	set(int(flags), name, desc, attrs)
	origin := &memberOrigin{class: c, raw: r.Slice(start, r.Position())}
	// Anything neither kept nor claimed was filtered out.
	origin.filtered = total-claimed != len(attrs)
	return origin, nil
}
