package topic

// Node is one entry of the topic hierarchy shown to visitors. Nodes nest to
// any depth; the dashboard usually produces two levels.
type Node struct {
	Topic           string `json:"topic"`
	ContextForUsers string `json:"contextForUsers,omitempty"`
	SubTopics       []Node `json:"subTopics,omitempty"`
}

// HasChildren reports whether the node offers a further choice.
func (n Node) HasChildren() bool {
	return len(n.SubTopics) > 0
}

// Find returns the direct child called name.
func (n Node) Find(name string) (Node, bool) {
	return find(n.SubTopics, name)
}

// Catalog is the ordered list of top-level topics of one chatbot.
type Catalog []Node

// Names lists the top-level topic names in catalog order.
func (c Catalog) Names() []string {
	return names(c)
}

// Find returns the top-level topic called name.
func (c Catalog) Find(name string) (Node, bool) {
	return find(c, name)
}

// Resolve walks path from the top level and returns the node picked at every
// level. It fails on the first name that is not offered at its level.
func (c Catalog) Resolve(path []string) ([]Node, bool) {
	resolved := make([]Node, 0, len(path))
	level := []Node(c)
	for _, name := range path {
		node, ok := find(level, name)
		if !ok {
			return nil, false
		}
		resolved = append(resolved, node)
		level = node.SubTopics
	}
	return resolved, true
}

// Options lists the names offered at one level of a node.
func (n Node) Options() []string {
	return names(n.SubTopics)
}

func names(nodes []Node) []string {
	out := make([]string, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, node.Topic)
	}
	return out
}

func find(nodes []Node, name string) (Node, bool) {
	for _, node := range nodes {
		if node.Topic == name {
			return node, true
		}
	}
	return Node{}, false
}

// Seed provides the demo catalog served by the development backend.
func Seed() Catalog {
	return Catalog{
		{
			Topic:           "Billing",
			ContextForUsers: "Tell us what looks wrong on your invoice and we will take a look.",
		},
		{
			Topic:           "Support",
			ContextForUsers: "Describe the problem you ran into.",
			SubTopics: []Node{
				{Topic: "Refunds", ContextForUsers: "Share your order number and the reason for the refund."},
				{Topic: "Returns", ContextForUsers: "Which item would you like to return?"},
			},
		},
		{
			Topic: "Sales",
		},
	}
}
