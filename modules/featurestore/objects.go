package featurestore

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultTimestampField is the event time column of feature views and
// entity frames.
const DefaultTimestampField = "event_timestamp"

// Entity is a business object features are keyed by.
type Entity struct {
	Name        string   `hcl:"name,label" json:"name"`
	JoinKeys    []string `hcl:"join_keys,optional" json:"join_keys,omitempty"`
	Description string   `hcl:"description,optional" json:"description,omitempty"`
}

// Keys returns the join keys, defaulting to the entity name.
func (e Entity) Keys() []string {
	if len(e.JoinKeys) == 0 {
		return []string{e.Name}
	}
	return e.JoinKeys
}

// Field is one feature of a view.
type Field struct {
	Name  string `hcl:"name,label" json:"name"`
	Dtype string `hcl:"dtype" json:"dtype"`
}

// FeatureView groups features that share entities and a source.
type FeatureView struct {
	Name           string   `hcl:"name,label" json:"name"`
	Entities       []string `hcl:"entities" json:"entities"`
	TTL            string   `hcl:"ttl,optional" json:"ttl,omitempty"`
	Source         string   `hcl:"source,optional" json:"source,omitempty"`
	TimestampField string   `hcl:"timestamp_field,optional" json:"timestamp_field,omitempty"`
	Fields         []Field  `hcl:"field,block" json:"fields"`
}

func (v FeatureView) ttl() time.Duration {
	d, _ := time.ParseDuration(v.TTL)
	return d
}

func (v FeatureView) timestampField() string {
	if v.TimestampField == "" {
		return DefaultTimestampField
	}
	return v.TimestampField
}

func (v FeatureView) hasField(name string) bool {
	for _, f := range v.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// PushSource accepts pushed rows for the views reading from it.
type PushSource struct {
	Name        string `hcl:"name,label" json:"name"`
	BatchSource string `hcl:"batch_source,optional" json:"batch_source,omitempty"`
}

// FeatureService names a reusable list of feature references.
type FeatureService struct {
	Name     string   `hcl:"name,label" json:"name"`
	Features []string `hcl:"features" json:"features"`
}

// Objects is the set of definitions registered with a store.
type Objects struct {
	Project         string           `hcl:"project,optional" json:"project,omitempty"`
	Entities        []Entity         `hcl:"entity,block" json:"entities,omitempty"`
	FeatureViews    []FeatureView    `hcl:"feature_view,block" json:"feature_views,omitempty"`
	PushSources     []PushSource     `hcl:"push_source,block" json:"push_sources,omitempty"`
	FeatureServices []FeatureService `hcl:"feature_service,block" json:"feature_services,omitempty"`
}

// Merge returns o with other's definitions added; same-named objects in
// other replace those in o.
func (o Objects) Merge(other Objects) Objects {
	out := Objects{Project: o.Project}
	if other.Project != "" {
		out.Project = other.Project
	}
	out.Entities = mergeByName(o.Entities, other.Entities, func(e Entity) string { return e.Name })
	out.FeatureViews = mergeByName(o.FeatureViews, other.FeatureViews, func(v FeatureView) string { return v.Name })
	out.PushSources = mergeByName(o.PushSources, other.PushSources, func(p PushSource) string { return p.Name })
	out.FeatureServices = mergeByName(o.FeatureServices, other.FeatureServices, func(s FeatureService) string { return s.Name })
	return out
}

func mergeByName[T any](base, extra []T, name func(T) string) []T {
	out := append([]T(nil), base...)
	for _, e := range extra {
		replaced := false
		for i := range out {
			if name(out[i]) == name(e) {
				out[i] = e
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, e)
		}
	}
	return out
}

func (o Objects) entity(name string) (Entity, bool) {
	for _, e := range o.Entities {
		if e.Name == name {
			return e, true
		}
	}
	return Entity{}, false
}

func (o Objects) view(name string) (FeatureView, bool) {
	for _, v := range o.FeatureViews {
		if v.Name == name {
			return v, true
		}
	}
	return FeatureView{}, false
}

func (o Objects) pushSource(name string) bool {
	for _, p := range o.PushSources {
		if p.Name == name {
			return true
		}
	}
	return false
}

func (o Objects) service(name string) (FeatureService, bool) {
	for _, s := range o.FeatureServices {
		if s.Name == name {
			return s, true
		}
	}
	return FeatureService{}, false
}

// joinKeys returns the join keys of view in entity order.
func (o Objects) joinKeys(v FeatureView) []string {
	var keys []string
	for _, name := range v.Entities {
		e, _ := o.entity(name)
		keys = append(keys, e.Keys()...)
	}
	return keys
}

// Validate reports every dangling reference and malformed value.
func (o Objects) Validate() error {
	var errs []error
	for _, v := range o.FeatureViews {
		for _, e := range v.Entities {
			if _, ok := o.entity(e); !ok {
				errs = append(errs, fmt.Errorf("feature view %q: unknown entity %q", v.Name, e))
			}
		}
		if v.TTL != "" {
			if _, err := time.ParseDuration(v.TTL); err != nil {
				errs = append(errs, fmt.Errorf("feature view %q: ttl: %w", v.Name, err))
			}
		}
		if v.Source != "" && !o.pushSource(v.Source) {
			errs = append(errs, fmt.Errorf("feature view %q: unknown push source %q", v.Name, v.Source))
		}
	}
	for _, s := range o.FeatureServices {
		for _, ref := range s.Features {
			if _, _, err := o.parseRef(ref); err != nil {
				errs = append(errs, fmt.Errorf("feature service %q: %w", s.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}

type featureRef struct {
	view    FeatureView
	feature string
}

// parseRef splits "view:feature".
func (o Objects) parseRef(ref string) (FeatureView, string, error) {
	viewName, feature, ok := strings.Cut(ref, ":")
	if !ok {
		return FeatureView{}, "", fmt.Errorf("feature reference %q is not of the form view:feature", ref)
	}
	v, ok := o.view(viewName)
	if !ok {
		return FeatureView{}, "", fmt.Errorf("feature reference %q: unknown feature view %q", ref, viewName)
	}
	if !v.hasField(feature) {
		return FeatureView{}, "", fmt.Errorf("feature reference %q: view %q has no field %q", ref, viewName, feature)
	}
	return v, feature, nil
}

// resolveRefs expands feature service names one level and parses the
// references.
func (o Objects) resolveRefs(refs []string) ([]featureRef, error) {
	var out []featureRef
	for _, ref := range refs {
		expanded := []string{ref}
		if svc, ok := o.service(ref); ok {
			expanded = svc.Features
		}
		for _, r := range expanded {
			v, f, err := o.parseRef(r)
			if err != nil {
				return nil, fmt.Errorf("featurestore: %w", err)
			}
			out = append(out, featureRef{view: v, feature: f})
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("featurestore: no features requested")
	}
	return out, nil
}
