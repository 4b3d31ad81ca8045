package qdrant

import (
	"encoding/json"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
)

func toPayload(m map[string]any) map[string]*pb.Value {
	out := make(map[string]*pb.Value, len(m))
	for k, v := range m {
		out[k] = toValue(v)
	}
	return out
}

func toValue(v any) *pb.Value {
	switch tv := v.(type) {
	case nil:
		return &pb.Value{Kind: &pb.Value_NullValue{NullValue: pb.NullValue_NULL_VALUE}}
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
	case uint64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
	case float32:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: float64(tv)}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
	case json.Number:
		if n, err := tv.Int64(); err == nil {
			return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: n}}
		}
		if f, err := tv.Float64(); err == nil {
			return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: f}}
		}
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv.String()}}
	case map[string]any:
		return &pb.Value{Kind: &pb.Value_StructValue{StructValue: &pb.Struct{Fields: toPayload(tv)}}}
	case []any:
		vals := make([]*pb.Value, len(tv))
		for i, e := range tv {
			vals[i] = toValue(e)
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: vals}}}
	case []string:
		vals := make([]*pb.Value, len(tv))
		for i, e := range tv {
			vals[i] = toValue(e)
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: vals}}}
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
	}
}

func fromPayload(m map[string]*pb.Value) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = fromValue(v)
	}
	return out
}

func fromValue(v *pb.Value) any {
	switch k := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return k.StringValue
	case *pb.Value_BoolValue:
		return k.BoolValue
	case *pb.Value_IntegerValue:
		return k.IntegerValue
	case *pb.Value_DoubleValue:
		return k.DoubleValue
	case *pb.Value_StructValue:
		return fromPayload(k.StructValue.GetFields())
	case *pb.Value_ListValue:
		vals := k.ListValue.GetValues()
		out := make([]any, len(vals))
		for i, e := range vals {
			out[i] = fromValue(e)
		}
		return out
	default:
		return nil
	}
}
