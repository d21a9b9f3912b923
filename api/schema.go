package api

// Kind classifies a node of a task schema tree.
type Kind uint8

const (
	// KindBody is the single body node under the document root.
	KindBody Kind = iota + 1
	// KindContainer groups content and containers under a namespace.
	KindContainer
	// KindContent describes one typed parameter.
	KindContent
	// KindTypeDescriptor describes the item type of a list parameter.
	KindTypeDescriptor
	// KindInclude references a base schema document. Never present after merge.
	KindInclude
)

func (k Kind) String() string {
	switch k {
	case KindBody:
		return "body"
	case KindContainer:
		return "container"
	case KindContent:
		return "content"
	case KindTypeDescriptor:
		return "type"
	case KindInclude:
		return "include"
	default:
		return "unknown"
	}
}

// Well-known container ids.
const (
	InputData         = "inputData"
	OutputData        = "outputData"
	ControlParameters = "controlParameters"
	Keywords          = "keywords"
)

// MergedContainers are the containers a derived schema inherits from its base.
var MergedContainers = []string{InputData, ControlParameters, Keywords}
