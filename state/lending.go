package state

import (
	"math/big"

	"collend/crypto"
	"collend/native/lending"
)

// PoolGet returns the pool books. The copy handed out never aliases the
// stored record.
func (m *Manager) PoolGet() *lending.PoolState {
	return m.books.Clone()
}

// PoolPut replaces the pool books.
func (m *Manager) PoolPut(books *lending.PoolState) error {
	if books == nil {
		return errNilValue
	}
	m.books = books.Clone()
	return nil
}

// LoanNextID returns the next identifier in the loan sequence.
func (m *Manager) LoanNextID() uint64 {
	m.nextLoanID++
	return m.nextLoanID
}

// LoanGet loads a loan by id.
func (m *Manager) LoanGet(id uint64) (*lending.Loan, bool) {
	loan, ok := m.loans[id]
	if !ok {
		return nil, false
	}
	return loan.Clone(), true
}

// LoanPut stores a loan keyed by its id.
func (m *Manager) LoanPut(loan *lending.Loan) error {
	if loan == nil {
		return errNilValue
	}
	m.loans[loan.ID] = loan.Clone()
	return nil
}

// LoanDelete removes a loan record. Missing ids are ignored.
func (m *Manager) LoanDelete(id uint64) {
	delete(m.loans, id)
}

// LoanIDByPosition resolves the loan currently drawn against a position.
func (m *Manager) LoanIDByPosition(positionID uint64) (uint64, bool) {
	loanID, ok := m.loansByPosition[positionID]
	return loanID, ok
}

// LoanIndexSet points a position at its open loan.
func (m *Manager) LoanIndexSet(positionID, loanID uint64) {
	m.loansByPosition[positionID] = loanID
}

// LoanIndexClear removes a position from the loan index.
func (m *Manager) LoanIndexClear(positionID uint64) {
	delete(m.loansByPosition, positionID)
}

// SharesGet returns the pool shares held by an address. Unknown holders
// hold zero.
func (m *Manager) SharesGet(addr crypto.Address) *big.Int {
	held, ok := m.shares[addressKey(addr)]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(held)
}

// SharesPut records the pool shares held by an address. A zero or negative
// holding removes the entry.
func (m *Manager) SharesPut(addr crypto.Address, amount *big.Int) error {
	if amount == nil {
		return errNilValue
	}
	key := addressKey(addr)
	if amount.Sign() <= 0 {
		delete(m.shares, key)
		return nil
	}
	m.shares[key] = new(big.Int).Set(amount)
	return nil
}

// BalanceOf returns the funds held by an address. Unknown accounts hold zero.
func (m *Manager) BalanceOf(addr crypto.Address) *big.Int {
	balance, ok := m.balances[addressKey(addr)]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(balance)
}

// Mint credits freshly issued funds to an address. Genesis and simulation
// tooling call it to seed accounts.
func (m *Manager) Mint(addr crypto.Address, amount *big.Int) error {
	if amount == nil {
		return errNilValue
	}
	if amount.Sign() < 0 {
		return errNegativeAmount
	}
	key := addressKey(addr)
	balance, ok := m.balances[key]
	if !ok {
		balance = big.NewInt(0)
	}
	m.balances[key] = new(big.Int).Add(balance, amount)
	return nil
}

// Transfer moves funds between accounts. The debit and credit apply
// together or not at all.
func (m *Manager) Transfer(from, to crypto.Address, amount *big.Int) error {
	if amount == nil {
		return errNilValue
	}
	if amount.Sign() < 0 {
		return errNegativeAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	fromKey := addressKey(from)
	fromBalance, ok := m.balances[fromKey]
	if !ok || fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	toKey := addressKey(to)
	if toKey == fromKey {
		return nil
	}
	toBalance, ok := m.balances[toKey]
	if !ok {
		toBalance = big.NewInt(0)
	}
	m.balances[fromKey] = new(big.Int).Sub(fromBalance, amount)
	m.balances[toKey] = new(big.Int).Add(toBalance, amount)
	return nil
}
