package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// Parser is a recursive descent parser for the statement surface.
type Parser struct {
	tokens []Token
	pos    int
}

// NewParser creates a parser from a slice of tokens.
func NewParser(tokens []Token) *Parser {
	return &Parser{tokens: tokens, pos: 0}
}

// Parse parses the token stream into a statement.
func (p *Parser) Parse() (Statement, error) {
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	p.match(TokenSemicolon)
	if p.peek().Type != TokenEOF {
		return nil, p.errorf("unexpected token %q after statement", p.peek().Literal)
	}
	return stmt, nil
}

func (p *Parser) parseStatement() (Statement, error) {
	tok := p.peek()
	switch tok.Type {
	case TokenCREATE:
		return p.parseCreateTable()
	case TokenINSERT:
		return p.parseInsert()
	case TokenSELECT:
		return p.parseSelect()
	case TokenUPDATE:
		return p.parseUpdate()
	case TokenDELETE:
		return p.parseDelete()
	case TokenALTER:
		return p.parseAlter()
	case TokenEXPLAIN:
		p.advance()
		sel, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		return &ExplainStmt{Select: sel}, nil
	case TokenDROP:
		return p.parseDrop()
	case TokenRENAME:
		return p.parseRename()
	case TokenSHOW:
		return p.parseShow()
	default:
		return nil, p.errorf("unexpected token %q, expected a statement", tok.Literal)
	}
}

// ParseSQL is a convenience function: lex + parse a statement string.
func ParseSQL(sql string) (Statement, error) {
	lexer := NewLexer(sql)
	tokens, err := lexer.Tokenize()
	if err != nil {
		return nil, err
	}
	parser := NewParser(tokens)
	return parser.Parse()
}

// --- Token helpers ---

func (p *Parser) peek() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *Parser) peekAt(pos int) Token {
	if pos >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[pos]
}

func (p *Parser) advance() Token {
	tok := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

func (p *Parser) expect(tt TokenType) (Token, error) {
	tok := p.peek()
	if tok.Type != tt {
		return tok, p.errorf("unexpected %q", tok.Literal)
	}
	p.advance()
	return tok, nil
}

func (p *Parser) expectKeyword(tt TokenType) error {
	_, err := p.expect(tt)
	return err
}

func (p *Parser) match(tt TokenType) bool {
	if p.peek().Type == tt {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) errorf(format string, args ...interface{}) error {
	tok := p.peek()
	prefix := fmt.Sprintf("line %d col %d: ", tok.Line, tok.Col)
	return fmt.Errorf(prefix+format, args...)
}

func (p *Parser) expectName() (string, error) {
	tok, err := p.expect(TokenIdentifier)
	if err != nil {
		return "", p.errorf("expected a name, got %q", tok.Literal)
	}
	return tok.Literal, nil
}

func (p *Parser) expectInt() (int, error) {
	tok, err := p.expect(TokenNumber)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(tok.Literal)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid count %q", tok.Literal)
	}
	return n, nil
}

// parseNameList parses name, name, ...
func (p *Parser) parseNameList() ([]string, error) {
	var names []string
	for {
		name, err := p.expectName()
		if err != nil {
			return nil, err
		}
		names = append(names, name)
		if !p.match(TokenComma) {
			return names, nil
		}
	}
}

// parseColumnList parses either (col1, col2) or a single col.
func (p *Parser) parseColumnList() ([]string, error) {
	if p.match(TokenLParen) {
		if p.match(TokenRParen) {
			return nil, nil
		}
		cols, err := p.parseNameList()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return cols, nil
	}
	name, err := p.expectName()
	if err != nil {
		return nil, err
	}
	return []string{name}, nil
}

// parsePartitionClause parses an optional PARTITION (p0, p1) restriction.
func (p *Parser) parsePartitionClause() ([]string, error) {
	if !p.match(TokenPARTITION) {
		return nil, nil
	}
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	names, err := p.parseNameList()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return names, nil
}

// --- CREATE TABLE ---

func (p *Parser) parseCreateTable() (*CreateTableStmt, error) {
	if err := p.expectKeyword(TokenCREATE); err != nil {
		return nil, err
	}
	if err := p.expectKeyword(TokenTABLE); err != nil {
		return nil, err
	}

	stmt := &CreateTableStmt{}

	// IF NOT EXISTS
	if p.peek().Type == TokenIF {
		p.advance()
		if err := p.expectKeyword(TokenNOT); err != nil {
			return nil, err
		}
		if err := p.expectKeyword(TokenEXISTS); err != nil {
			return nil, err
		}
		stmt.IfNotExists = true
	}

	name, err := p.expectName()
	if err != nil {
		return nil, err
	}
	stmt.TableName = name

	// Column definitions: ( col1 Type1, col2 Type2, ... )
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	for {
		colName, err := p.expectName()
		if err != nil {
			return nil, err
		}
		typeName, err := p.expectName()
		if err != nil {
			return nil, err
		}
		// Nullable(InnerType)
		if strings.EqualFold(typeName, "nullable") {
			if _, err := p.expect(TokenLParen); err != nil {
				return nil, err
			}
			inner, err := p.expectName()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TokenRParen); err != nil {
				return nil, err
			}
			typeName = "Nullable(" + inner + ")"
		}
		stmt.Columns = append(stmt.Columns, ColumnDefNode{Name: colName, TypeName: typeName})
		if !p.match(TokenComma) {
			break
		}
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}

	// ENGINE = Memory
	if p.match(TokenENGINE) {
		p.match(TokenEQ)
		engine, err := p.expectName()
		if err != nil {
			return nil, err
		}
		stmt.Engine = engine
		// Optional ()
		if p.match(TokenLParen) {
			if _, err := p.expect(TokenRParen); err != nil {
				return nil, err
			}
		}
	}

	// ORDER BY (col1, col2, ...) or ORDER BY col1
	if p.peek().Type == TokenORDER {
		p.advance()
		if err := p.expectKeyword(TokenBY); err != nil {
			return nil, err
		}
		stmt.OrderBy, err = p.parseColumnList()
		if err != nil {
			return nil, err
		}
	}

	if p.peek().Type == TokenPARTITION {
		spec, err := p.parsePartitionSpec()
		if err != nil {
			return nil, err
		}
		stmt.Partition = spec
	}

	return stmt, nil
}

func (p *Parser) parsePartitionSpec() (*PartitionSpec, error) {
	if err := p.expectKeyword(TokenPARTITION); err != nil {
		return nil, err
	}
	if err := p.expectKeyword(TokenBY); err != nil {
		return nil, err
	}
	method, err := p.parseMethod(true)
	if err != nil {
		return nil, err
	}
	spec := &PartitionSpec{Method: *method}

	if p.match(TokenPARTITIONS) {
		if spec.NumPartitions, err = p.expectInt(); err != nil {
			return nil, err
		}
	}

	if p.match(TokenSUBPARTITION) {
		if err := p.expectKeyword(TokenBY); err != nil {
			return nil, err
		}
		if spec.Sub, err = p.parseMethod(false); err != nil {
			return nil, err
		}
		if p.match(TokenSUBPARTITIONS) {
			if spec.NumSubpartitions, err = p.expectInt(); err != nil {
				return nil, err
			}
		}
	}

	if p.peek().Type == TokenLParen {
		if spec.Partitions, err = p.parsePartitionDefs(); err != nil {
			return nil, err
		}
	}
	return spec, nil
}

// parseMethod parses [LINEAR] HASH(expr) | [LINEAR] KEY(cols) and, when
// allowed, RANGE/LIST [COLUMNS] (...).
func (p *Parser) parseMethod(allowRangeList bool) (*PartitionMethod, error) {
	m := &PartitionMethod{}
	m.Linear = p.match(TokenLINEAR)

	tok := p.advance()
	switch tok.Type {
	case TokenHASH:
		m.Kind = "HASH"
	case TokenKEY:
		m.Kind = "KEY"
	case TokenRANGE, TokenLIST:
		if !allowRangeList {
			return nil, p.errorf("subpartitions must use HASH or KEY, got %s", tok.Literal)
		}
		if m.Linear {
			return nil, p.errorf("LINEAR is only valid with HASH or KEY")
		}
		m.Kind = strings.ToUpper(tok.Literal)
		m.Columns = p.match(TokenCOLUMNS)
	default:
		return nil, p.errorf("unexpected %q, expected a partitioning method", tok.Literal)
	}

	if m.Kind == "KEY" || m.Columns {
		cols, err := p.parseColumnList()
		if err != nil {
			return nil, err
		}
		m.ColList = cols
		return m, nil
	}

	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	m.Expr = expr
	return m, nil
}

// parsePartitionDefs parses ( PARTITION p ..., PARTITION q ... ).
func (p *Parser) parsePartitionDefs() ([]PartitionDefNode, error) {
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	var defs []PartitionDefNode
	for {
		def, err := p.parsePartitionDef()
		if err != nil {
			return nil, err
		}
		defs = append(defs, *def)
		if !p.match(TokenComma) {
			break
		}
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return defs, nil
}

func (p *Parser) parsePartitionDef() (*PartitionDefNode, error) {
	if err := p.expectKeyword(TokenPARTITION); err != nil {
		return nil, err
	}
	name, err := p.expectName()
	if err != nil {
		return nil, err
	}
	def := &PartitionDefNode{Name: name}

	if p.match(TokenVALUES) {
		switch {
		case p.match(TokenLESS):
			if err := p.expectKeyword(TokenTHAN); err != nil {
				return nil, err
			}
			if p.match(TokenMAXVALUE) {
				def.LessThan = []Expression{&MaxValueExpr{}}
				break
			}
			if def.LessThan, err = p.parseParenExprList(); err != nil {
				return nil, err
			}
		case p.match(TokenIN):
			if _, err := p.expect(TokenLParen); err != nil {
				return nil, err
			}
			for {
				var tuple []Expression
				if p.peek().Type == TokenLParen {
					if tuple, err = p.parseParenExprList(); err != nil {
						return nil, err
					}
				} else {
					e, err := p.parseExpression()
					if err != nil {
						return nil, err
					}
					tuple = []Expression{e}
				}
				def.In = append(def.In, tuple)
				if !p.match(TokenComma) {
					break
				}
			}
			if _, err := p.expect(TokenRParen); err != nil {
				return nil, err
			}
		default:
			return nil, p.errorf("expected LESS THAN or IN after VALUES")
		}
	}

	if p.match(TokenENGINE) {
		p.match(TokenEQ)
		if def.Engine, err = p.expectName(); err != nil {
			return nil, err
		}
	}

	if p.peek().Type == TokenLParen && p.peekAt(p.pos+1).Type == TokenSUBPARTITION {
		p.advance()
		for {
			if err := p.expectKeyword(TokenSUBPARTITION); err != nil {
				return nil, err
			}
			sub := SubpartitionDefNode{}
			if sub.Name, err = p.expectName(); err != nil {
				return nil, err
			}
			if p.match(TokenENGINE) {
				p.match(TokenEQ)
				if sub.Engine, err = p.expectName(); err != nil {
					return nil, err
				}
			}
			def.Subpartitions = append(def.Subpartitions, sub)
			if !p.match(TokenComma) {
				break
			}
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
	}
	return def, nil
}

// parseParenExprList parses ( expr, expr, ... ).
func (p *Parser) parseParenExprList() ([]Expression, error) {
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	var list []Expression
	for {
		e, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		list = append(list, e)
		if !p.match(TokenComma) {
			break
		}
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return list, nil
}

// --- ALTER TABLE ---

func (p *Parser) parseAlter() (*AlterTableStmt, error) {
	if err := p.expectKeyword(TokenALTER); err != nil {
		return nil, err
	}
	if err := p.expectKeyword(TokenTABLE); err != nil {
		return nil, err
	}
	name, err := p.expectName()
	if err != nil {
		return nil, err
	}
	stmt := &AlterTableStmt{TableName: name}

	tok := p.advance()
	switch tok.Type {
	case TokenADD:
		if err := p.expectKeyword(TokenPARTITION); err != nil {
			return nil, err
		}
		if p.match(TokenPARTITIONS) {
			stmt.Action = AlterAddPartitions
			if stmt.Count, err = p.expectInt(); err != nil {
				return nil, err
			}
			return stmt, nil
		}
		stmt.Action = AlterAddPartition
		if stmt.Partitions, err = p.parsePartitionDefs(); err != nil {
			return nil, err
		}
	case TokenDROP:
		if err := p.expectKeyword(TokenPARTITION); err != nil {
			return nil, err
		}
		stmt.Action = AlterDropPartition
		if stmt.Names, err = p.parseNameList(); err != nil {
			return nil, err
		}
	case TokenREORGANIZE:
		if err := p.expectKeyword(TokenPARTITION); err != nil {
			return nil, err
		}
		stmt.Action = AlterReorganize
		if stmt.Names, err = p.parseNameList(); err != nil {
			return nil, err
		}
		if err := p.expectKeyword(TokenINTO); err != nil {
			return nil, err
		}
		if stmt.Partitions, err = p.parsePartitionDefs(); err != nil {
			return nil, err
		}
	case TokenCOALESCE:
		if err := p.expectKeyword(TokenPARTITION); err != nil {
			return nil, err
		}
		stmt.Action = AlterCoalesce
		if stmt.Count, err = p.expectInt(); err != nil {
			return nil, err
		}
	case TokenREBUILD:
		if err := p.expectKeyword(TokenPARTITION); err != nil {
			return nil, err
		}
		stmt.Action = AlterRebuild
		if p.match(TokenALL) {
			stmt.All = true
			return stmt, nil
		}
		if stmt.Names, err = p.parseNameList(); err != nil {
			return nil, err
		}
	default:
		return nil, p.errorf("unsupported ALTER TABLE action %q", tok.Literal)
	}
	return stmt, nil
}

// --- INSERT ---

func (p *Parser) parseInsert() (*InsertStmt, error) {
	if err := p.expectKeyword(TokenINSERT); err != nil {
		return nil, err
	}
	if err := p.expectKeyword(TokenINTO); err != nil {
		return nil, err
	}

	name, err := p.expectName()
	if err != nil {
		return nil, err
	}
	stmt := &InsertStmt{TableName: name}

	if stmt.Partitions, err = p.parsePartitionClause(); err != nil {
		return nil, err
	}

	// Optional column list
	if p.peek().Type == TokenLParen {
		p.advance()
		if stmt.Columns, err = p.parseNameList(); err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
	}

	if err := p.expectKeyword(TokenVALUES); err != nil {
		return nil, err
	}

	// Parse row value lists: (v1, v2), (v3, v4), ...
	for {
		row, err := p.parseParenExprList()
		if err != nil {
			return nil, err
		}
		stmt.Values = append(stmt.Values, row)
		if !p.match(TokenComma) {
			break
		}
	}

	return stmt, nil
}

// --- SELECT ---

func (p *Parser) parseSelect() (*SelectStmt, error) {
	if err := p.expectKeyword(TokenSELECT); err != nil {
		return nil, err
	}

	stmt := &SelectStmt{}

	// SELECT list
	for {
		se, err := p.parseSelectExpr()
		if err != nil {
			return nil, err
		}
		stmt.Columns = append(stmt.Columns, se)
		if !p.match(TokenComma) {
			break
		}
	}

	// FROM
	if err := p.expectKeyword(TokenFROM); err != nil {
		return nil, err
	}
	name, err := p.expectName()
	if err != nil {
		return nil, err
	}
	stmt.From = name
	if stmt.Partitions, err = p.parsePartitionClause(); err != nil {
		return nil, err
	}

	// WHERE
	if p.match(TokenWHERE) {
		if stmt.Where, err = p.parseExpression(); err != nil {
			return nil, err
		}
	}

	// ORDER BY
	if p.peek().Type == TokenORDER {
		p.advance()
		if err := p.expectKeyword(TokenBY); err != nil {
			return nil, err
		}
		for {
			col, err := p.expectName()
			if err != nil {
				return nil, err
			}
			desc := false
			if p.peek().Type == TokenDESC {
				p.advance()
				desc = true
			} else if p.peek().Type == TokenASC {
				p.advance()
			}
			stmt.OrderBy = append(stmt.OrderBy, OrderByExpr{Column: col, Desc: desc})
			if !p.match(TokenComma) {
				break
			}
		}
	}

	// LIMIT
	if p.peek().Type == TokenLIMIT {
		p.advance()
		numTok, err := p.expect(TokenNumber)
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseInt(numTok.Literal, 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid LIMIT value: %s", numTok.Literal)
		}
		stmt.Limit = &n
	}

	return stmt, nil
}

func (p *Parser) parseSelectExpr() (SelectExpr, error) {
	if p.peek().Type == TokenStar {
		p.advance()
		return SelectExpr{Expr: &StarExpr{}}, nil
	}

	expr, err := p.parseExpression()
	if err != nil {
		return SelectExpr{}, err
	}

	var alias string
	if p.peek().Type == TokenAS {
		p.advance()
		if alias, err = p.expectName(); err != nil {
			return SelectExpr{}, err
		}
	} else if p.peek().Type == TokenIdentifier {
		// Alias without AS, only when followed by a list separator or FROM.
		next := p.peekAt(p.pos + 1)
		if next.Type == TokenComma || next.Type == TokenFROM {
			alias = p.advance().Literal
		}
	}

	return SelectExpr{Expr: expr, Alias: alias}, nil
}

// --- UPDATE / DELETE ---

func (p *Parser) parseUpdate() (*UpdateStmt, error) {
	if err := p.expectKeyword(TokenUPDATE); err != nil {
		return nil, err
	}
	name, err := p.expectName()
	if err != nil {
		return nil, err
	}
	stmt := &UpdateStmt{TableName: name}
	if stmt.Partitions, err = p.parsePartitionClause(); err != nil {
		return nil, err
	}
	if err := p.expectKeyword(TokenSET); err != nil {
		return nil, err
	}
	for {
		col, err := p.expectName()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenEQ); err != nil {
			return nil, err
		}
		val, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		stmt.Set = append(stmt.Set, Assignment{Column: col, Value: val})
		if !p.match(TokenComma) {
			break
		}
	}
	if p.match(TokenWHERE) {
		if stmt.Where, err = p.parseExpression(); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

func (p *Parser) parseDelete() (*DeleteStmt, error) {
	if err := p.expectKeyword(TokenDELETE); err != nil {
		return nil, err
	}
	if err := p.expectKeyword(TokenFROM); err != nil {
		return nil, err
	}
	name, err := p.expectName()
	if err != nil {
		return nil, err
	}
	stmt := &DeleteStmt{TableName: name}
	if stmt.Partitions, err = p.parsePartitionClause(); err != nil {
		return nil, err
	}
	if p.match(TokenWHERE) {
		if stmt.Where, err = p.parseExpression(); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

// --- DROP / RENAME / SHOW ---

func (p *Parser) parseDrop() (*DropTableStmt, error) {
	if err := p.expectKeyword(TokenDROP); err != nil {
		return nil, err
	}
	if err := p.expectKeyword(TokenTABLE); err != nil {
		return nil, err
	}

	stmt := &DropTableStmt{}

	if p.peek().Type == TokenIF {
		p.advance()
		if err := p.expectKeyword(TokenEXISTS); err != nil {
			return nil, err
		}
		stmt.IfExists = true
	}

	name, err := p.expectName()
	if err != nil {
		return nil, err
	}
	stmt.TableName = name
	return stmt, nil
}

func (p *Parser) parseRename() (*RenameTableStmt, error) {
	if err := p.expectKeyword(TokenRENAME); err != nil {
		return nil, err
	}
	if err := p.expectKeyword(TokenTABLE); err != nil {
		return nil, err
	}
	from, err := p.expectName()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword(TokenTO); err != nil {
		return nil, err
	}
	to, err := p.expectName()
	if err != nil {
		return nil, err
	}
	return &RenameTableStmt{From: from, To: to}, nil
}

func (p *Parser) parseShow() (Statement, error) {
	if err := p.expectKeyword(TokenSHOW); err != nil {
		return nil, err
	}
	switch {
	case p.match(TokenTABLES):
		return &ShowTablesStmt{}, nil
	case p.match(TokenPARTITIONS):
		if err := p.expectKeyword(TokenFROM); err != nil {
			return nil, err
		}
		name, err := p.expectName()
		if err != nil {
			return nil, err
		}
		return &ShowPartitionsStmt{TableName: name}, nil
	case p.match(TokenTABLE):
		if err := p.expectKeyword(TokenSTATUS); err != nil {
			return nil, err
		}
		name, err := p.expectName()
		if err != nil {
			return nil, err
		}
		return &ShowTableStatusStmt{TableName: name}, nil
	default:
		return nil, p.errorf("expected TABLES, PARTITIONS or TABLE STATUS after SHOW")
	}
}

// --- Expression parsing (recursive descent with precedence) ---
// Precedence (lowest to highest): OR, AND, NOT, comparison, addition, multiplication, unary, primary

func (p *Parser) parseExpression() (Expression, error) {
	return p.parseOr()
}

func (p *Parser) parseOr() (Expression, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == TokenOR {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expression, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == TokenAND {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseNot() (Expression, error) {
	if p.peek().Type == TokenNOT {
		p.advance()
		expr, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: "NOT", Expr: expr}, nil
	}
	return p.parseComparison()
}

func (p *Parser) parseComparison() (Expression, error) {
	left, err := p.parseAddSub()
	if err != nil {
		return nil, err
	}

	switch p.peek().Type {
	case TokenEQ, TokenNEQ, TokenLT, TokenGT, TokenLTE, TokenGTE:
		op := p.advance().Literal
		if op == "<>" {
			op = "!="
		}
		right, err := p.parseAddSub()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: op, Left: left, Right: right}, nil
	case TokenIS:
		p.advance()
		not := p.match(TokenNOT)
		if err := p.expectKeyword(TokenNULL); err != nil {
			return nil, err
		}
		return &IsNullExpr{Expr: left, Not: not}, nil
	case TokenNOT, TokenIN, TokenBETWEEN:
		not := p.match(TokenNOT)
		switch {
		case p.match(TokenIN):
			list, err := p.parseParenExprList()
			if err != nil {
				return nil, err
			}
			return &InExpr{Expr: left, List: list, Not: not}, nil
		case p.match(TokenBETWEEN):
			low, err := p.parseAddSub()
			if err != nil {
				return nil, err
			}
			if err := p.expectKeyword(TokenAND); err != nil {
				return nil, err
			}
			high, err := p.parseAddSub()
			if err != nil {
				return nil, err
			}
			return &BetweenExpr{Expr: left, Low: low, High: high, Not: not}, nil
		default:
			return nil, p.errorf("expected IN or BETWEEN after NOT")
		}
	}
	return left, nil
}

func (p *Parser) parseAddSub() (Expression, error) {
	left, err := p.parseMulDiv()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == TokenPlus || p.peek().Type == TokenMinus {
		op := p.advance().Literal
		right, err := p.parseMulDiv()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseMulDiv() (Expression, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == TokenStar || p.peek().Type == TokenSlash || p.peek().Type == TokenPercent {
		op := p.advance().Literal
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseUnary() (Expression, error) {
	if p.peek().Type == TokenMinus {
		p.advance()
		expr, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: "-", Expr: expr}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Expression, error) {
	tok := p.peek()

	switch tok.Type {
	case TokenNumber:
		p.advance()
		if strings.Contains(tok.Literal, ".") {
			f, err := strconv.ParseFloat(tok.Literal, 64)
			if err != nil {
				return nil, err
			}
			return &LiteralExpr{Value: f}, nil
		}
		n, err := strconv.ParseInt(tok.Literal, 10, 64)
		if err != nil {
			return nil, err
		}
		return &LiteralExpr{Value: n}, nil

	case TokenString:
		p.advance()
		return &LiteralExpr{Value: tok.Literal}, nil

	case TokenNULL:
		p.advance()
		return &LiteralExpr{Value: nil}, nil

	case TokenMAXVALUE:
		p.advance()
		return &MaxValueExpr{}, nil

	case TokenIdentifier:
		p.advance()
		// Check if this is a function call
		if p.peek().Type == TokenLParen {
			return p.parseFunctionCall(tok.Literal)
		}
		return &ColumnRef{Name: tok.Literal}, nil

	case TokenLParen:
		p.advance()
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return expr, nil

	default:
		return nil, p.errorf("unexpected token %q in expression", tok.Literal)
	}
}

func (p *Parser) parseFunctionCall(name string) (Expression, error) {
	p.advance() // consume (

	var args []Expression
	if p.peek().Type != TokenRParen {
		for {
			arg, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if !p.match(TokenComma) {
				break
			}
		}
	}

	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}

	return &FunctionCall{Name: strings.ToLower(name), Args: args}, nil
}

// ParseExpression parses a standalone expression string into an AST Expression.
func ParseExpression(sql string) (Expression, error) {
	lexer := NewLexer(sql)
	tokens, err := lexer.Tokenize()
	if err != nil {
		return nil, err
	}
	p := NewParser(tokens)
	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if p.peek().Type != TokenEOF && p.peek().Type != TokenSemicolon {
		return nil, fmt.Errorf("unexpected token after expression: %q", p.peek().Literal)
	}
	return expr, nil
}
