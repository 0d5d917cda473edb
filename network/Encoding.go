package network

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"gorgonia.org/tensor"
)

// wireTensor is the gob representation of a float64 tensor
type wireTensor struct {
	Shape []int
	Data  []float64
}

// EncodeParams gob encodes a weight snapshot returned by Params
func EncodeParams(params []*tensor.Dense) ([]byte, error) {
	return encodeTensors(params)
}

// DecodeParams decodes a weight snapshot encoded with EncodeParams
func DecodeParams(in []byte) ([]*tensor.Dense, error) {
	return decodeTensors(in)
}

func encodeTensors(params []*tensor.Dense) ([]byte, error) {
	wire := make([]wireTensor, len(params))
	for i, p := range params {
		data, ok := p.Data().([]float64)
		if !ok {
			return nil, fmt.Errorf("encodeTensors: tensor %v has dtype %v",
				i, p.Dtype())
		}
		wire[i] = wireTensor{
			Shape: append([]int(nil), p.Shape()...),
			Data:  append([]float64(nil), data...),
		}
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(wire); err != nil {
		return nil, fmt.Errorf("encodeTensors: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeTensors(in []byte) ([]*tensor.Dense, error) {
	var wire []wireTensor
	if err := gob.NewDecoder(bytes.NewReader(in)).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decodeTensors: %w", err)
	}

	params := make([]*tensor.Dense, len(wire))
	for i, w := range wire {
		params[i] = tensor.New(tensor.WithShape(w.Shape...),
			tensor.WithBacking(w.Data))
	}
	return params, nil
}
