package gormutil

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"gorm.io/gorm/schema"
)

// DocSerializer stores structured columns (submission lists, test cases, badge
// sets) as JSON text. Unlike gorm's builtin json serializer, a NULL column
// scans into the zero value instead of failing.
type DocSerializer struct{}

func (DocSerializer) Scan(ctx context.Context, field *schema.Field, dst reflect.Value, dbValue any) error {
	val := field.ReflectValueOf(ctx, dst)
	if dbValue == nil {
		val.Set(reflect.New(field.FieldType).Elem())
		return nil
	}
	var data []byte
	switch v := dbValue.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("bad db value type: %T", dbValue)
	}
	if len(data) == 0 {
		val.Set(reflect.New(field.FieldType).Elem())
		return nil
	}
	target := reflect.New(field.FieldType)
	if err := json.Unmarshal(data, target.Interface()); err != nil {
		return fmt.Errorf("unmarshal %v: %w", field.Name, err)
	}
	val.Set(target.Elem())
	return nil
}

func (DocSerializer) Value(ctx context.Context, field *schema.Field, dst reflect.Value, fieldValue any) (any, error) {
	if fieldValue == nil {
		return nil, nil
	}
	data, err := json.Marshal(fieldValue)
	if err != nil {
		return nil, fmt.Errorf("marshal %v: %w", field.Name, err)
	}
	return string(data), nil
}

func init() {
	schema.RegisterSerializer("doc", DocSerializer{})
}
