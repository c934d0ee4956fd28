package promptnode

var Version = "v0.1.0"
