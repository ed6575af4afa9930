package consistency

// program derives a conflict whenever a required directive implies a
// forbidden directive of a rule in scope for the same ontological category,
// unless an exception exempts the forbidden directive for that category.
const program = `
Decl required(Directive, Rule).
Decl forbidden(Directive, Rule).
Decl implies(Req, Forb).
Decl applies(Rule, Category).
Decl exempt(Directive, Category).

conflict(Category, Req, Forb) :-
    implies(Req, Forb),
    required(Req, ReqRule),
    forbidden(Forb, ForbRule),
    applies(ReqRule, Category),
    applies(ForbRule, Category),
    !exempt(Forb, Category).
`
