package snmp

import "fmt"

// PDUType is the context-specific tag of a PDU.
type PDUType byte

const (
	GetRequest     PDUType = 0xa0
	GetNextRequest PDUType = 0xa1
	Response       PDUType = 0xa2
	GetBulkRequest PDUType = 0xa5
	Report         PDUType = 0xa8
)

func (t PDUType) String() string {
	switch t {
	case GetRequest:
		return "GetRequest"
	case GetNextRequest:
		return "GetNextRequest"
	case Response:
		return "Response"
	case GetBulkRequest:
		return "GetBulkRequest"
	case Report:
		return "Report"
	default:
		return fmt.Sprintf("PDUType(0x%02x)", byte(t))
	}
}

// PDU is a protocol data unit. For GetBulkRequest the error-status and
// error-index positions carry NonRepeaters and MaxRepetitions instead.
type PDU struct {
	Type           PDUType
	RequestID      int32
	ErrorStatus    ErrorStatus
	ErrorIndex     int
	NonRepeaters   int
	MaxRepetitions int
	VarBinds       []VarBind
}

// Names returns the varbind OIDs in order.
func (p *PDU) Names() []OID {
	names := make([]OID, len(p.VarBinds))
	for i, vb := range p.VarBinds {
		names[i] = vb.Name
	}
	return names
}

func appendPDU(b []byte, p *PDU) ([]byte, error) {
	var body []byte
	body = appendInt(body, tagInteger, int64(p.RequestID))
	if p.Type == GetBulkRequest {
		body = appendInt(body, tagInteger, int64(p.NonRepeaters))
		body = appendInt(body, tagInteger, int64(p.MaxRepetitions))
	} else {
		body = appendInt(body, tagInteger, int64(p.ErrorStatus))
		body = appendInt(body, tagInteger, int64(p.ErrorIndex))
	}

	var list []byte
	for _, vb := range p.VarBinds {
		item, err := appendOIDValue(nil, vb.Name)
		if err != nil {
			return nil, err
		}
		v := vb.Value
		if v.Type == 0 {
			v = Null()
		}
		if item, err = appendValue(item, v); err != nil {
			return nil, fmt.Errorf("varbind %s: %w", vb.Name, err)
		}
		list = appendTLV(list, tagSequence, item)
	}
	body = appendTLV(body, tagSequence, list)
	return appendTLV(b, byte(p.Type), body), nil
}

func parsePDU(t tlv) (*PDU, error) {
	switch PDUType(t.tag) {
	case GetRequest, GetNextRequest, Response, GetBulkRequest, Report:
	default:
		return nil, fmt.Errorf("%w: unsupported PDU type 0x%02x", ErrDecode, t.tag)
	}
	p := &PDU{Type: PDUType(t.tag)}
	r := t.reader()

	reqID, err := r.readInt()
	if err != nil {
		return nil, err
	}
	p.RequestID = int32(reqID)

	f1, err := r.readInt()
	if err != nil {
		return nil, err
	}
	f2, err := r.readInt()
	if err != nil {
		return nil, err
	}
	if p.Type == GetBulkRequest {
		p.NonRepeaters, p.MaxRepetitions = int(f1), int(f2)
	} else {
		p.ErrorStatus, p.ErrorIndex = ErrorStatus(f1), int(f2)
	}

	list, err := r.expect(tagSequence)
	if err != nil {
		return nil, err
	}
	if !r.empty() {
		return nil, fmt.Errorf("%w: trailing data in PDU", ErrDecode)
	}
	lr := list.reader()
	for !lr.empty() {
		item, err := lr.expect(tagSequence)
		if err != nil {
			return nil, err
		}
		ir := item.reader()
		name, err := ir.expect(tagOID)
		if err != nil {
			return nil, err
		}
		oid, err := parseOIDValue(name.content)
		if err != nil {
			return nil, err
		}
		raw, err := ir.read()
		if err != nil {
			return nil, err
		}
		v, err := parseValue(raw)
		if err != nil {
			return nil, fmt.Errorf("varbind %s: %w", oid, err)
		}
		if !ir.empty() {
			return nil, fmt.Errorf("%w: trailing data in varbind %s", ErrDecode, oid)
		}
		p.VarBinds = append(p.VarBinds, VarBind{Name: oid, Value: v})
	}
	return p, nil
}
