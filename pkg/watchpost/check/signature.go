package check

// ParamKind distinguishes the two shapes a check-function parameter may
// bind to (spec §4.4 step 1).
type ParamKind int

const (
	// EnvironmentKind injects the current target environment.
	EnvironmentKind ParamKind = iota
	// DatasourceKind injects a resolved datasource instance, either a
	// direct registration or one produced by a factory.
	DatasourceKind
)

// FromFactory names a factory-produced datasource binding: "from factory F
// with arguments A" (spec §4.4 step 1, second bullet).
type FromFactory struct {
	FactoryType string
	Args        map[string]interface{}
}

// ParamSpec is the check author's declaration of one parameter, as
// supplied on a Registration before it has been validated into a binding.
type ParamSpec struct {
	Kind ParamKind
	// DatasourceType is the registered direct-datasource type name. Unused
	// for EnvironmentKind and for a FromFactory binding.
	DatasourceType string
	// Factory is set when this parameter is produced by a factory rather
	// than a direct registration.
	Factory *FromFactory
}

// Environment declares a parameter that receives the current target
// environment.
func Environment() ParamSpec { return ParamSpec{Kind: EnvironmentKind} }

// Datasource declares a parameter bound to a direct registration of
// datasourceType.
func Datasource(datasourceType string) ParamSpec {
	return ParamSpec{Kind: DatasourceKind, DatasourceType: datasourceType}
}

// DatasourceFromFactory declares a parameter produced by factoryType at
// resolution time, with the given per-call arguments.
func DatasourceFromFactory(datasourceType, factoryType string, args map[string]interface{}) ParamSpec {
	return ParamSpec{
		Kind:           DatasourceKind,
		DatasourceType: datasourceType,
		Factory:        &FromFactory{FactoryType: factoryType, Args: args},
	}
}

// ParamBinding is one entry of a validated SignaturePlan: exactly what
// EnvironmentParam / DatasourceParam(type, nil) / DatasourceParam(type,
// FromFactory(...)) describe in spec §3.
type ParamBinding struct {
	Spec ParamSpec
}

// SignaturePlan is the ordered list of parameter bindings computed once at
// registration time (spec §3, §4.4).
type SignaturePlan []ParamBinding
