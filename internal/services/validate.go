package services

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// fieldMessages maps "field.tag" to the inline message for that failure.
var fieldMessages = map[string]string{
	"title.min":            "Title must be at least 3 characters.",
	"title.required":       "Title must be at least 3 characters.",
	"desc.min":             "Description must be at least 10 characters.",
	"desc.required":        "Description must be at least 10 characters.",
	"link.required":        "Download link is required.",
	"link.url":             "Please enter a valid URL (e.g., https://...)",
	"youtube.url":          "Invalid YouTube URL.",
	"gallery.max":          "A listing can have at most 30 gallery images.",
	"img.url":              "Please enter a valid image URL.",
	"gallery.url":          "Please enter a valid image URL.",
	"rating.min":           "Rating must be between 1 and 5.",
	"rating.max":           "Rating must be between 1 and 5.",
	"customColor.hexcolor": "Please pick a valid color.",
	"profilePic.url":       "Please enter a valid image URL.",
	"bio.max":              "Bio is too long.",
}

const categoryMessage = "Please choose a category from the list."

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateStruct runs v over s and converts failures to a ValidationError.
func validateStruct(v *validator.Validate, s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		field := fe.Field()
		if i := strings.IndexByte(field, '['); i >= 0 {
			field = field[:i]
		}
		if _, seen := out.Fields[field]; seen {
			continue
		}
		msg, ok := fieldMessages[field+"."+fe.Tag()]
		if !ok {
			msg = "Invalid " + field + "."
		}
		out.Fields[field] = msg
	}
	return out
}
