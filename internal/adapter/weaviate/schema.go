package weaviate

import (
	"context"
	"strings"
	"unicode"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// SchemaClient defines the Weaviate schema operations the store needs.
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
	DeleteClass(ctx context.Context, className string) error
}

type clientAdapter struct {
	client *weaviate.Client
}

func (a *clientAdapter) ClassExists(ctx context.Context, className string) (bool, error) {
	return a.client.Schema().ClassExistenceChecker().WithClassName(className).Do(ctx)
}

func (a *clientAdapter) CreateClass(ctx context.Context, class *models.Class) error {
	return a.client.Schema().ClassCreator().WithClass(class).Do(ctx)
}

func (a *clientAdapter) GetClass(ctx context.Context, className string) (*models.Class, error) {
	return a.client.Schema().ClassGetter().WithClassName(className).Do(ctx)
}

func (a *clientAdapter) AddProperty(ctx context.Context, className string, property *models.Property) error {
	return a.client.Schema().PropertyCreator().WithClassName(className).WithProperty(property).Do(ctx)
}

func (a *clientAdapter) DeleteClass(ctx context.Context, className string) error {
	return a.client.Schema().ClassDeleter().WithClassName(className).Do(ctx)
}

func classProperties() []*models.Property {
	return []*models.Property{
		{Name: "pointId", DataType: []string{"int"}},
		{Name: "text", DataType: []string{"text"}},
		{Name: "embeddingKind", DataType: []string{"text"}},
		{Name: "payload", DataType: []string{"text"}}, // full payload as JSON
	}
}

// ensureClass creates the class when absent, otherwise adds any property
// that older deployments are missing.
func ensureClass(ctx context.Context, client SchemaClient, className string) error {
	exists, err := client.ClassExists(ctx, className)
	if err != nil {
		return err
	}

	properties := classProperties()
	if !exists {
		return client.CreateClass(ctx, &models.Class{
			Class:             className,
			Description:       "An indexed question",
			Vectorizer:        "none",
			VectorIndexConfig: map[string]interface{}{"distance": "cosine"},
			Properties:        properties,
		})
	}

	class, err := client.GetClass(ctx, className)
	if err != nil {
		return err
	}

	existing := make(map[string]bool)
	for _, p := range class.Properties {
		existing[p.Name] = true
	}
	for _, p := range properties {
		if !existing[p.Name] {
			if err := client.AddProperty(ctx, className, p); err != nil {
				return err
			}
		}
	}
	return nil
}

// ClassName maps a collection name to a valid Weaviate class name, which
// must start with an upper case letter.
func ClassName(collection string) string {
	if collection == "" {
		return collection
	}
	var b strings.Builder
	for i, r := range collection {
		switch {
		case i == 0 && unicode.IsLetter(r):
			b.WriteRune(unicode.ToUpper(r))
			continue
		case i == 0:
			b.WriteString("C")
		}
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
