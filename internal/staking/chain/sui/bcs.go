package sui

import (
	"encoding/hex"

	"github.com/fardream/go-bcs/bcs"
	"github.com/pkg/errors"
)

const addressLength = 32

// Address is a 32 byte Sui address or object id
type Address [addressLength]byte

func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// ObjectRef references an owned object at a version
type ObjectRef struct {
	ObjectID Address
	Version  uint64
	Digest   []byte
}

// SharedObject references a shared object
type SharedObject struct {
	ObjectID             Address
	InitialSharedVersion uint64
	Mutable              bool
}

// Unit is an enum variant without payload
type Unit struct{}

// ObjectArg is an object input of a programmable transaction
type ObjectArg struct {
	ImmOrOwnedObject *ObjectRef
	SharedObject     *SharedObject
	Receiving        *ObjectRef
}

func (ObjectArg) IsBcsEnum() {}

// CallArg is a programmable transaction input
type CallArg struct {
	Pure   *[]byte
	Object *ObjectArg
}

func (CallArg) IsBcsEnum() {}

// NestedResult selects one value of a multi value command result
type NestedResult struct {
	Index     uint16
	Secondary uint16
}

// Argument references a command operand
type Argument struct {
	GasCoin      *Unit
	Input        *uint16
	Result       *uint16
	NestedResult *NestedResult
}

func (Argument) IsBcsEnum() {}

// TypeTag is a Move type
type TypeTag struct {
	Bool    *Unit
	U8      *Unit
	U64     *Unit
	U128    *Unit
	Address *Unit
	Signer  *Unit
	Vector  *TypeTag
	Struct  *StructTag
	U16     *Unit
	U32     *Unit
	U256    *Unit
}

func (TypeTag) IsBcsEnum() {}

// StructTag is a fully qualified Move struct type
type StructTag struct {
	Address    Address
	Module     string
	Name       string
	TypeParams []TypeTag
}

// OptionalTypeTag is Option<TypeTag>
type OptionalTypeTag struct {
	None *Unit
	Some *TypeTag
}

func (OptionalTypeTag) IsBcsEnum() {}

type MoveCall struct {
	Package       Address
	Module        string
	Function      string
	TypeArguments []TypeTag
	Arguments     []Argument
}

type TransferObjects struct {
	Objects []Argument
	Address Argument
}

type SplitCoins struct {
	Coin    Argument
	Amounts []Argument
}

type MergeCoins struct {
	Destination Argument
	Sources     []Argument
}

type Publish struct {
	Modules      [][]byte
	Dependencies []Address
}

type MakeMoveVec struct {
	Type     OptionalTypeTag
	Elements []Argument
}

type Upgrade struct {
	Modules      [][]byte
	Dependencies []Address
	Package      Address
	Ticket       Argument
}

// Command is one step of a programmable transaction
type Command struct {
	MoveCall        *MoveCall
	TransferObjects *TransferObjects
	SplitCoins      *SplitCoins
	MergeCoins      *MergeCoins
	Publish         *Publish
	MakeMoveVec     *MakeMoveVec
	Upgrade         *Upgrade
}

func (Command) IsBcsEnum() {}

// ProgrammableTransaction lists inputs and the commands consuming them
type ProgrammableTransaction struct {
	Inputs   []CallArg
	Commands []Command
}

// TransactionKind only decodes programmable transactions; system kinds fail as unknown variants
type TransactionKind struct {
	ProgrammableTransaction *ProgrammableTransaction
}

func (TransactionKind) IsBcsEnum() {}

// GasData identifies the gas payment of a transaction
type GasData struct {
	Payment []ObjectRef
	Owner   Address
	Price   uint64
	Budget  uint64
}

// TransactionExpiration bounds the epoch a transaction may execute in
type TransactionExpiration struct {
	None  *Unit
	Epoch *uint64
}

func (TransactionExpiration) IsBcsEnum() {}

// TransactionData is TransactionData::V1
type TransactionData struct {
	Kind       TransactionKind
	Sender     Address
	Gas        GasData
	Expiration TransactionExpiration
}

// Programmable returns the programmable transaction carried by the data
func (d *TransactionData) Programmable() *ProgrammableTransaction {
	return d.Kind.ProgrammableTransaction
}

// ExpiresAt returns the expiration epoch, nil when the transaction does not expire
func (d *TransactionData) ExpiresAt() *uint64 {
	return d.Expiration.Epoch
}

// versionedData is the TransactionData enum; only V1 exists on chain
type versionedData struct {
	V1 *TransactionData
}

func (versionedData) IsBcsEnum() {}

// signedTransaction is SenderSignedTransaction: the intent message and its signatures
type signedTransaction struct {
	Intent     [3]byte
	Data       versionedData
	Signatures [][]byte
}

// DecodeTransactionData decodes BCS TransactionData::V1 carrying a programmable transaction.
// Trailing bytes are rejected.
func DecodeTransactionData(raw []byte) (*TransactionData, error) {
	var data versionedData
	n, err := bcs.Unmarshal(raw, &data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode transaction data")
	}
	if n != len(raw) {
		return nil, errors.Errorf("%d trailing bytes after transaction data", len(raw)-n)
	}
	if data.V1 == nil || data.V1.Programmable() == nil {
		return nil, errors.New("only programmable V1 transactions can be signed")
	}
	return data.V1, nil
}

// encodeSenderSignedData encodes vec[SenderSignedTransaction{IntentMessage, vec[GenericSignature]}]
func encodeSenderSignedData(data *TransactionData, sigs [][]byte) ([]byte, error) {
	var intent [3]byte
	copy(intent[:], transactionIntent)

	out, err := bcs.Marshal([]signedTransaction{{
		Intent:     intent,
		Data:       versionedData{V1: data},
		Signatures: sigs,
	}})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode signed transaction")
	}
	return out, nil
}

// decodeSenderSignedData returns the transaction bytes and signatures of a single signer envelope
func decodeSenderSignedData(raw []byte) ([]byte, [][]byte, error) {
	var envelope []signedTransaction
	n, err := bcs.Unmarshal(raw, &envelope)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to decode signed transaction")
	}
	if n != len(raw) {
		return nil, nil, errors.New("trailing bytes after signatures")
	}
	if len(envelope) != 1 {
		return nil, nil, errors.Errorf("expected one signed transaction, got %d", len(envelope))
	}

	signed := envelope[0]
	if string(signed.Intent[:]) != string(transactionIntent) {
		return nil, nil, errors.New("not a transaction data intent")
	}

	// BCS is canonical, so re-encoding yields the signed bytes
	txBytes, err := bcs.Marshal(signed.Data)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to encode transaction data")
	}
	return txBytes, signed.Signatures, nil
}
